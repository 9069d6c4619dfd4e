package transport

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/zep-us/httpjobs/internal/request"
)

// encodeMultipart renders fields as a multipart/form-data body.
// The body is fully buffered so auth retries can replay it.
func encodeMultipart(fields []request.Field) ([]byte, string, *Error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if f.Type != request.FieldFile {
			if err := w.WriteField(f.Name, f.Value); err != nil {
				return nil, "", newError(CodeReceiveError, "multipart", err)
			}
			continue
		}

		file, err := os.Open(f.Value)
		if err != nil {
			return nil, "", newError(CodeFileRead, "multipart", err)
		}
		part, err := w.CreateFormFile(f.Name, filepath.Base(f.Value))
		if err != nil {
			file.Close()
			return nil, "", newError(CodeReceiveError, "multipart", err)
		}
		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return nil, "", newError(CodeFileRead, "multipart", fmt.Errorf("read %s: %w", f.Value, err))
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", newError(CodeReceiveError, "multipart", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
