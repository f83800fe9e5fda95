package settings

import "errors"

var (
	// ErrRetryTimes is returned when retry_times is outside 0-5.
	ErrRetryTimes = errors.New("retry_times must be between 0 and 5")
	// ErrMaxDepth is returned when max_depth is outside 0-3.
	ErrMaxDepth = errors.New("max_depth must be between 0 and 3")
	// ErrMaxThreads is returned when max_threads is outside 1-20.
	ErrMaxThreads = errors.New("max_threads must be between 1 and 20")
	// ErrImageSizeLimit is returned when image_size_limit is outside 1-100 MB.
	ErrImageSizeLimit = errors.New("image_size_limit must be between 1 and 100 MB")
	// ErrNegativeDuration is returned when a delay or timeout is negative.
	ErrNegativeDuration = errors.New("durations must not be negative")
	// ErrLinkDensity is returned when link_density_threshold is outside (0, 1].
	ErrLinkDensity = errors.New("link_density_threshold must be in (0, 1]")
	// ErrMinContentLength is returned when min_content_length is not positive.
	ErrMinContentLength = errors.New("min_content_length must be positive")
	// ErrMaxImages is returned when max_images is negative.
	ErrMaxImages = errors.New("max_images must not be negative")
	// ErrRedisAddress is returned when distributed mode has no usable redis address.
	ErrRedisAddress = errors.New("redis host and port are required in distributed mode")
)
