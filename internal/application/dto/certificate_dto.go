package dto

import "time"

// CertificateResponse visão do certificado sem o material cifrado.
type CertificateResponse struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
