// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package download

import "errors"

// Download errors
var (
	ErrURLParse            = errors.New("cannot parse URL")
	ErrCannotOpenFile      = errors.New("cannot open file")
	ErrCannotStartDownload = errors.New("cannot start download")
	ErrCannotCloseFile     = errors.New("cannot close file")
	ErrForcedAbort         = errors.New("download aborted")
	ErrBusy                = errors.New("download in progress")
)
