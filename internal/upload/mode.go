package upload

// Mode is the transmission strategy of an upload.
type Mode int

const (
	ModeSimple Mode = iota
	ModeMultipart
	ModeResumable
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeMultipart:
		return "multipart"
	case ModeResumable:
		return "resumable"
	default:
		return "unknown"
	}
}

// UploadType is the value of the uploadType query parameter for m.
func (m Mode) UploadType() string {
	switch m {
	case ModeMultipart:
		return "multipart"
	case ModeResumable:
		return "resumable"
	default:
		return "media"
	}
}

// SelectMode picks the strategy for an upload of length bytes.
// Large or forced uploads are resumable; otherwise metadata changes need a
// multipart body and plain content goes in one request.
func SelectMode(length int64, fieldsEmpty, forceResumable bool, threshold int64) Mode {
	if forceResumable || length >= threshold {
		return ModeResumable
	}
	if fieldsEmpty {
		return ModeSimple
	}
	return ModeMultipart
}
