// config_features.go - runtime, cache and GPU settings
package envconfig

// =============================================================================
// Model cache and registry
// =============================================================================

var (
	// CacheKind selects the persistent model store: disk, badger or sqlite.
	CacheKind = StringWithDefault("TUZIYO_CACHE", "disk")

	// RegistryFile points to a YAML file overriding the builtin model registry.
	RegistryFile = String("TUZIYO_REGISTRY")
)

// =============================================================================
// Inference runtime
// =============================================================================

var (
	// NoGPU disables accelerated execution backends.
	NoGPU = Bool("TUZIYO_NOGPU")

	// ORTLibrary overrides the onnxruntime shared library path.
	ORTLibrary = String("TUZIYO_ORT_LIBRARY")

	// NumThreads sets intra-op threads for the CPU backend (0 = runtime default).
	NumThreads = Uint("TUZIYO_NUM_THREADS", 0)
)

// =============================================================================
// GPU visibility
// =============================================================================

var (
	// CudaVisibleDevices controls visible NVIDIA devices.
	CudaVisibleDevices = String("CUDA_VISIBLE_DEVICES")
)

// =============================================================================
// Editing limits
// =============================================================================

var (
	// MaxImageSize downscales uploads whose longest side exceeds it (0 = off).
	MaxImageSize = Uint("TUZIYO_MAX_IMAGE_SIZE", 0)

	// MaxSessions caps concurrent editing sessions held by the server.
	MaxSessions = Uint("TUZIYO_MAX_SESSIONS", 8)
)
