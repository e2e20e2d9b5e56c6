package keystore

import "errors"

// ErrInvalidPassword is returned by Open and ChangePassword when the
// supplied password fails to unseal the master key record.
var ErrInvalidPassword = errors.New("keystore: invalid password")

// ErrInvalidDataDirStructure is returned when dataDir is missing the key
// file, already has one, or the key file is malformed.
var ErrInvalidDataDirStructure = errors.New("keystore: invalid data directory structure")
