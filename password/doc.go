// Package password implements argon2id password hashing in PHC string
// format.
package password
