package httpcache

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"
)

// stagingPool holds the scratch buffers compressBody/decompressBody grow
// while running a body through brotli/gzip, the same pooling dgrr-http2's
// client uses around its wire reads — bodies staged here are copied out
// into their own right-sized slice before the entry is stored, so the
// pooled buffer's backing array goes straight back for the next body.
var stagingPool bytebufferpool.Pool

// compressionThreshold is spec.md §4.6's "body > 1 KiB" cutoff.
const compressionThreshold = 1024

// textLikePrefixes covers the MIME families spec.md §4.6 calls "text-like".
var textLikePrefixes = []string{"text/", "application/json", "application/javascript", "application/xml", "image/svg+xml"}

func isTextLike(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, prefix := range textLikePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// chooseCompression picks brotli over gzip when both are acceptable,
// since brotli generally compresses text bodies smaller; it returns ""
// when the body doesn't qualify for compression at all.
func chooseCompression(contentType string, bodyLen int) string {
	if bodyLen <= compressionThreshold || !isTextLike(contentType) {
		return ""
	}
	return "br"
}

func compressBody(scheme string, body []byte) ([]byte, error) {
	if scheme != "br" && scheme != "gzip" {
		return body, nil
	}

	buf := stagingPool.Get()
	defer stagingPool.Put(buf)
	buf.Reset()

	var w io.WriteCloser
	if scheme == "br" {
		w = brotli.NewWriter(buf)
	} else {
		w = gzip.NewWriter(buf)
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}

func decompressBody(scheme string, body []byte) ([]byte, error) {
	if scheme != "br" && scheme != "gzip" {
		return body, nil
	}

	var r io.Reader
	if scheme == "br" {
		r = brotli.NewReader(bytes.NewReader(body))
	} else {
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	}

	buf := stagingPool.Get()
	defer stagingPool.Put(buf)
	buf.Reset()

	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.B...), nil
}
