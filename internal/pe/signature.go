package pe

import (
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mozilla.org/pkcs7"
)

// CertificateInfo contains information about a certificate in the signature chain.
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	IsValid      bool
	Signer       bool
}

// WIN_CERTIFICATE structure.
type winCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
	// Certificate data follows
}

// PE signature constants (Windows SDK naming convention).
//
//nolint:revive // ALL_CAPS matches Windows SDK naming
const (
	WIN_CERT_REVISION_1_0          = 0x0100
	WIN_CERT_REVISION_2_0          = 0x0200
	WIN_CERT_TYPE_X509             = 0x0001
	WIN_CERT_TYPE_PKCS_SIGNED_DATA = 0x0002
)

// Certificate is one WIN_CERTIFICATE entry of the certificate table.
type Certificate struct {
	Revision        uint16
	CertificateType uint16
	// Offset is the file offset of the certificate data, after the header.
	Offset uint64
	Data   []byte
}

// Certificates parses the PKCS#7 signed data and returns its certificate
// chain. Entries of other types yield ErrNotPresent.
func (c Certificate) Certificates() ([]CertificateInfo, error) {
	if c.CertificateType != WIN_CERT_TYPE_PKCS_SIGNED_DATA {
		return nil, errors.Wrapf(ErrNotPresent, "证书类型 0x%04X 不是 PKCS#7", c.CertificateType)
	}
	p7, err := pkcs7.Parse(c.Data)
	if err != nil {
		return nil, errors.Wrap(err, "解析PKCS#7签名失败")
	}
	signer := p7.GetOnlySigner()
	now := time.Now()
	infos := make([]CertificateInfo, 0, len(p7.Certificates))
	for _, cert := range p7.Certificates {
		infos = append(infos, CertificateInfo{
			Subject:      cert.Subject.String(),
			Issuer:       cert.Issuer.String(),
			SerialNumber: fmt.Sprintf("%X", cert.SerialNumber),
			NotBefore:    cert.NotBefore,
			NotAfter:     cert.NotAfter,
			IsValid:      now.After(cert.NotBefore) && now.Before(cert.NotAfter),
			Signer:       signer != nil && isSameCert(signer, cert),
		})
	}
	return infos, nil
}

func isSameCert(a, b *x509.Certificate) bool {
	return a.SerialNumber.Cmp(b.SerialNumber) == 0 && a.Issuer.String() == b.Issuer.String()
}

// SecurityContent is the decoded certificate table. The table is located
// by file offset and usually lives in the overlay, outside every section.
type SecurityContent struct {
	DataContent
	certs []Certificate
}

func newSecurityContent(img *Image, dir DataDirectory, sec *Section) (Content, error) {
	loc := img.calc.LocateOffset(uint64(dir.VirtualAddress), dir.Size)
	c := &SecurityContent{DataContent: newDataContent(img, dir, loc)}
	data, err := c.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "读取证书表失败")
	}

	for pos := 0; pos+8 <= len(data); {
		hdr := winCertificate{
			Length:          binary.LittleEndian.Uint32(data[pos:]),
			Revision:        binary.LittleEndian.Uint16(data[pos+4:]),
			CertificateType: binary.LittleEndian.Uint16(data[pos+6:]),
		}
		if hdr.Length < 8 || pos+int(hdr.Length) > len(data) {
			log.WithField("length", hdr.Length).Warn("证书条目长度无效")
			break
		}
		payload := make([]byte, hdr.Length-8)
		copy(payload, data[pos+8:pos+int(hdr.Length)])
		c.certs = append(c.certs, Certificate{
			Revision:        hdr.Revision,
			CertificateType: hdr.CertificateType,
			Offset:          loc.FileOffset + uint64(pos) + 8,
			Data:            payload,
		})
		// Entries are quadword aligned.
		pos += int(alignUp(hdr.Length, 8))
	}
	return c, nil
}

// Entries returns the certificate table entries.
func (c *SecurityContent) Entries() []Certificate {
	out := make([]Certificate, len(c.certs))
	copy(out, c.certs)
	return out
}

// Signers returns the certificate chains of every PKCS#7 entry.
func (c *SecurityContent) Signers() ([]CertificateInfo, error) {
	var infos []CertificateInfo
	for _, cert := range c.certs {
		chain, err := cert.Certificates()
		if err != nil {
			if errors.Is(err, ErrNotPresent) {
				continue
			}
			return nil, err
		}
		infos = append(infos, chain...)
	}
	return infos, nil
}
