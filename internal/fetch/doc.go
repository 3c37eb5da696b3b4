// Package fetch downloads release archives, verifies them and unpacks them.
//
// Downloads stream to a temporary file next to the destination while a SHA-256
// digest is computed on the fly. When a keyring is configured, a detached
// armored OpenPGP signature is fetched and checked before anything is extracted.
// Archives compressed with bzip2, xz or gzip are supported.
package fetch
