package repository

import "errors"

// ErrOrderNotFound covers unknown ids and orders already cancelled.
var ErrOrderNotFound = errors.New("order not found")
