package blobstore

// Minimal file signatures recognised by http.DetectContentType.
var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj<<>>endobj\ntrailer<<>>\n%%EOF\n")
	pngBytes  = []byte("\x89PNG\x0D\x0A\x1A\x0A\x00\x00\x00\x0DIHDR\x00\x00\x00\x01")
	jpegBytes = []byte("\xFF\xD8\xFF\xE0\x00\x10JFIF\x00\x01\x01\x00")
	textBytes = []byte("just some plain text, not a report")
)

var testKey = []byte("0123456789abcdef0123456789abcdef")
