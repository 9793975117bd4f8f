package bridge

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// CalcSizeForSlice returns the exact number of bytes a padded standard
// base64 payload decodes to.
func CalcSizeForSlice(encoded string) (int, error) {
	encoded = compact(encoded)
	if len(encoded)%4 != 0 {
		return 0, core.ErrActionFailed.WithMessage(
			fmt.Sprintf("invalid base64 length %d", len(encoded)))
	}
	if len(encoded) == 0 {
		return 0, nil
	}
	padding := 0
	if strings.HasSuffix(encoded, "==") {
		padding = 2
	} else if strings.HasSuffix(encoded, "=") {
		padding = 1
	}
	return len(encoded)/4*3 - padding, nil
}

// DecodeBase64 decodes a standard base64 payload, ignoring line breaks and
// a data: URL prefix.
func DecodeBase64(encoded string) ([]byte, error) {
	encoded = compact(encoded)
	size, err := CalcSizeForSlice(encoded)
	if err != nil {
		return nil, err
	}
	if int64(size) > int64(core.MaxScreenshotPixels)*4 {
		return nil, core.ErrOutOfMemory.WithMessage(fmt.Sprintf("payload of %d bytes exceeds decode budget", size))
	}
	buf := make([]byte, size)
	n, err := base64.StdEncoding.Decode(buf, []byte(encoded))
	if err != nil {
		return nil, core.ErrActionFailed.WithMessage("invalid base64 payload").WithCause(err)
	}
	return buf[:n], nil
}

// DecodeScreenshot decodes a base64 image payload into a screenshot.
func DecodeScreenshot(encoded string) (*core.Screenshot, error) {
	data, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return core.DecodeScreenshot(data)
}

// ScreenshotFrom extracts and decodes the image carried by a response.
func ScreenshotFrom(r Response) (*core.Screenshot, error) {
	data, ok := r.ImageData()
	if !ok {
		return nil, core.ErrActionFailed.WithMessage("invalid screenshot response")
	}
	return DecodeScreenshot(data)
}

func compact(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if strings.ContainsAny(s, "\r\n") {
		s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	}
	return s
}
