package disbatch

import "github.com/gabriel-vasile/mimetype"

// DetectFileType sniffs the MIME type of the file at path. It is the
// default DetectFunc used when the caller does not supply a file type.
func DetectFileType(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mtype.String(), nil
}
