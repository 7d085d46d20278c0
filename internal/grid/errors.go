package grid

import "errors"

// Sentinel errors for the grid, ownership map and tile transfer.
var (
	ErrOutOfRange           = errors.New("coordinate or tile id out of range")
	ErrInvalidExtent        = errors.New("invalid grid extent")
	ErrDuplicateTile        = errors.New("tile already registered")
	ErrInconsistentIndex    = errors.New("tile index inconsistent with registration")
	ErrNotFound             = errors.New("tile not found")
	ErrIncompleteAssignment = errors.New("ownership assignment is incomplete")
	ErrUnpopulatedMap       = errors.New("ownership map not populated")
	ErrCorruptTransfer      = errors.New("corrupt tile transfer")
	ErrNotCoordinator       = errors.New("operation allowed on coordinator rank only")
	ErrNotOwner             = errors.New("tile is not owned by this rank")
	ErrStaleVersion         = errors.New("ownership map version is not newer than the one held")
)
