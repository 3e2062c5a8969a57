//go:build !linux && !freebsd && !openbsd && !netbsd && !dragonfly && !darwin

package platform

func (s *System) TrySendToTrash(path string) error {
	return ErrTrashUnsupported
}
