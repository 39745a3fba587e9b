package inference

import "strings"

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// Validate is the cheap gate run before the model or decoder is touched. A nil
// data slice means no file was supplied.
func Validate(data []byte, filename string) error {
	if data == nil {
		return validationError("No image file provided")
	}
	if filename == "" {
		return validationError("No image file selected")
	}
	dot := strings.LastIndexByte(filename, '.')
	if dot < 0 || !allowedExtensions[strings.ToLower(filename[dot+1:])] {
		return validationError("Invalid file type. Supported: png, jpg, jpeg")
	}
	if len(data) == 0 {
		return validationError("Uploaded image file is empty")
	}
	return nil
}
