package entity

import "time"

// Certificate material credencial de um usuário perante a prefeitura.
// O bundle .pfx e a senha ficam cifrados em repouso (cryptobox); o certificado
// só é mutado por desativação, nunca reativado nem apagado.
type Certificate struct {
	ID                string
	UserID            string
	Filename          string
	PfxData           []byte // bundle cifrado (nonce || tag || ciphertext)
	EncryptedPassword string // senha cifrada, codificada em hex
	Active            bool
	CreatedAt         time.Time
}
