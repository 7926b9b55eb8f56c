package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/peercall/internal/protocol"
)

// maxAttachment bounds files sent over the chat
const maxAttachment = 8 << 20

var errNotDataURL = errors.New("not a data URL")

// attachment reads a file into a chat envelope carrying a base64 data URL
func attachment(path string, typ protocol.ContentType) (protocol.Envelope, error) {
	info, err := os.Stat(path)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if info.Size() > maxAttachment {
		return protocol.Envelope{}, fmt.Errorf("%s is %s; the limit is %s", path, formatSize(int(info.Size())), formatSize(maxAttachment))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.Envelope{}, err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if typ == protocol.ContentImage && !strings.HasPrefix(mimeType, "image/") {
		return protocol.Envelope{}, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}

	return protocol.Envelope{
		Content:  encodeDataURL(mimeType, data),
		Type:     typ,
		FileName: filepath.Base(path),
	}, nil
}

func encodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeDataURL returns the payload and media type of a base64 data URL
func decodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", errNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errNotDataURL
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return []byte(payload), mimeType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errNotDataURL, err)
	}
	return data, mimeType, nil
}
