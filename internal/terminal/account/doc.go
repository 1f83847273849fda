// Package account provisions the OS accounts that terminal sessions run as.
//
// Host drives useradd, usermod, pkill and userdel through a Runner, always
// with argument arrays, behind a circuit breaker. New accounts get a
// placeholder bcrypt credential, a bash profile (history, completion, a
// username@terminal:path prompt, aliases) and a home directory readable only
// by the account. Existing accounts are reused without modification, except
// that accounts below MinUID are refused.
//
// Memory keeps accounts in a map and never touches the host. Its identities
// are marked Synthetic so shells are not started under their uids.
package account
