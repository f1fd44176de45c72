package docpipeline

import (
	"net/url"
	"path"
	"strings"
)

// FileName picks the stored file name: the recorded name, else the last
// URL path segment, else the first 12 hash characters with a .pdf suffix.
func FileName(recorded, rawURL, hash string) string {
	if name := strings.TrimSpace(recorded); name != "" {
		return name
	}
	if seg := lastSegment(rawURL); seg != "" {
		return seg
	}
	prefix := hash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return prefix + ".pdf"
}

func lastSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if strings.HasSuffix(p, "/") {
		return ""
	}
	seg := path.Base(p)
	if seg == "." || seg == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	return seg
}

// ContentType strips parameters from a Content-Type header.
func ContentType(header string) string {
	mime, _, _ := strings.Cut(header, ";")
	return strings.TrimSpace(mime)
}

// CleanText makes extracted text storable in Postgres: invalid UTF-8 is
// dropped and NUL bytes are removed.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
