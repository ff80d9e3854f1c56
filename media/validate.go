package media

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
)

type Limits struct {
	MaxFiles     int
	MaxFileBytes int64
}

var DefaultLimits = Limits{MaxFiles: 4, MaxFileBytes: 20 << 20}

// Prepared is a validated attachment, not yet uploaded.
type Prepared struct {
	Name   string
	Mime   string
	Size   int64
	Digest string
	Data   []byte
}

func (p *Prepared) FileDigest() types.FileDigest {
	return types.FileDigest{Name: p.Name, Size: p.Size, Digest: p.Digest}
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// Validate checks a send request's content before anything is uploaded. The
// type of every file is sniffed from its bytes; the declared type is ignored.
func Validate(limits Limits, sniffer Sniffer, text string, files []types.UploadAttachment) ([]*Prepared, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, errs.Validation(errs.CodeEmptyContent, "message needs text or at least one attachment")
	}
	if len(files) > limits.MaxFiles {
		return nil, errs.Validation(errs.CodeTooManyFiles, "too many attachments")
	}
	prepared := make([]*Prepared, 0, len(files))
	for _, f := range files {
		name := cleanName(f.Name)
		size := int64(len(f.Data))
		if size > limits.MaxFileBytes {
			return nil, errs.Validation(errs.CodeFileTooLarge+":"+name, name+" exceeds the size limit")
		}
		mime := sniffer.Sniff(f.Data)
		if !Allowed(mime) {
			return nil, errs.Validation(errs.CodeBlockedMime+":"+mime, "attachment type "+mime+" is not allowed")
		}
		sum := sha256.Sum256(f.Data)
		prepared = append(prepared, &Prepared{
			Name:   name,
			Mime:   mime,
			Size:   size,
			Digest: hex.EncodeToString(sum[:]),
			Data:   f.Data,
		})
	}
	return prepared, nil
}

// Fingerprint identifies the submitted content independently of upload keys.
func Fingerprint(text string, files []*Prepared) (string, error) {
	digests := make([]types.FileDigest, len(files))
	for i, f := range files {
		digests[i] = f.FileDigest()
	}
	return types.Fingerprint(text, digests)
}
