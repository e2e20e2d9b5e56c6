package aead

import "errors"

// ErrAuthFailed is returned by Engine.Open on the first unauthenticated
// byte boundary. fsengine translates it into a sealerr.Corrupted error,
// and keystore.Open into keystore.ErrInvalidPassword when the master key
// record fails to open.
var ErrAuthFailed = errors.New("aead: authentication failed")
