package transport

import tlerrors "termlink/internal/errors"

var errNotConnected = tlerrors.ErrNotConnected
