package service

import "errors"

var (
	// ErrNoSuitableLoader is returned by AddLayer when no loader matches the
	// layer's resources and no record carries a bounding box.
	ErrNoSuitableLoader = errors.New("no suitable loader")

	// ErrResourceFetchFailed marks a failed fetch or decode of one resource.
	// It is reported through the status tracker, never returned from AddLayer.
	ErrResourceFetchFailed = errors.New("resource fetch failed")

	// ErrSpatialMetadataMissing marks a record without usable geographic
	// elements during click resolution. The record is skipped.
	ErrSpatialMetadataMissing = errors.New("spatial metadata missing")

	ErrLayerNotFound        = errors.New("layer not found")
	ErrUnsupportedAttribute = errors.New("attribute not supported by layer type")
	ErrInvalidMove          = errors.New("invalid layer move")
)
