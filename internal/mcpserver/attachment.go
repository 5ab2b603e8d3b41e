package mcpserver

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/blobnotes/internal/noteservice"
)

const maxAttachmentSize = 10 << 20 // 10 MB

// attachmentArg reads the optional filename/file_base64 pair from a tool
// call. A nil upload means the call carries no file.
func attachmentArg(req mcp.CallToolRequest) (*noteservice.Upload, error) {
	filename := req.GetString("filename", "")
	encoded := req.GetString("file_base64", "")
	if filename == "" && encoded == "" {
		return nil, nil
	}
	if filename == "" {
		return nil, fmt.Errorf("filename is required when file_base64 is set")
	}

	data, err := decodeAttachment(encoded)
	if err != nil {
		return nil, err
	}
	if len(data) > maxAttachmentSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", len(data), maxAttachmentSize)
	}
	return &noteservice.Upload{Filename: filename, Body: bytes.NewReader(data)}, nil
}

// decodeAttachment accepts plain base64 or a data:[<mediatype>];base64,<data> URI.
func decodeAttachment(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, encoded, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("invalid data URI: missing comma separator")
		}
		if !strings.Contains(meta, ";base64") {
			return nil, fmt.Errorf("only base64 data URIs are supported")
		}
		s = encoded
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}
