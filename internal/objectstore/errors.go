package objectstore

import "errors"

func isNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsNotFound reports whether err signals a missing object.
func IsNotFound(err error) bool {
	return isNotFound(err)
}
