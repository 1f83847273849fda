package account

import (
	"fmt"
	"os"
	"path/filepath"
)

const bashrc = `# ~/.bashrc: managed by termhost

case $- in
    *i*) ;;
      *) return;;
esac

HISTCONTROL=ignoreboth
HISTSIZE=5000
HISTFILESIZE=10000
shopt -s histappend
shopt -s checkwinsize
PROMPT_COMMAND='history -a'

if [ -f /usr/share/bash-completion/bash_completion ]; then
    . /usr/share/bash-completion/bash_completion
elif [ -f /etc/bash_completion ]; then
    . /etc/bash_completion
fi

export CLICOLOR=1
PS1='\[\e[1;32m\]\u@terminal\[\e[0m\]:\[\e[1;34m\]\w\[\e[0m\]\$ '

alias ls='ls --color=auto'
alias ll='ls -alF'
alias la='ls -A'
alias l='ls -CF'
alias grep='grep --color=auto'
alias ..='cd ..'
alias ...='cd ../..'

cd %q 2>/dev/null || true
`

const bashProfile = `# ~/.bash_profile: managed by termhost
if [ -f ~/.bashrc ]; then
    . ~/.bashrc
fi
`

const inputrc = `# ~/.inputrc: managed by termhost
$include /etc/inputrc
set completion-ignore-case on
set show-all-if-ambiguous on
set colored-stats on
"\e[A": history-search-backward
"\e[B": history-search-forward
`

// profileFiles returns the shell profile for an account, keyed by file name.
func profileFiles(workingDirectory string) map[string]string {
	return map[string]string{
		".bashrc":       fmt.Sprintf(bashrc, workingDirectory),
		".bash_profile": bashProfile,
		".inputrc":      inputrc,
	}
}

// writeProfile writes the profile files into home. Existing files are
// overwritten.
func writeProfile(home, workingDirectory string) error {
	for name, content := range profileFiles(workingDirectory) {
		path := filepath.Join(home, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
