package whisperx

// Config captures runtime settings for WhisperX.
type Config struct {
	// Model is the WhisperX model, e.g. "large-v3".
	Model       string
	CUDAEnabled bool
	// VADMethod is "silero" or "pyannote".
	VADMethod string
	// HFToken is required by pyannote.
	HFToken string
	// Language is an ISO 639-1 code; empty lets WhisperX detect it.
	Language string
}

const (
	DefaultModel      = "large-v3"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "8"
	ChunkSize         = "30"
	BeamSize          = "5"
	SegmentResolution = "sentence"
	OutputFormat      = "json"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
)

// UVXCommand launches WhisperX in an ephemeral environment.
const UVXCommand = "uvx"
