// Package cryptobox cifra material sensível (certificados .pfx e senhas)
// para armazenamento em repouso, com AES-256-GCM.
//
// Formato empacotado: nonce(16) || tag(16) || ciphertext. O layout é fixo
// porque os registros cifrados persistidos dependem dele.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize tamanho obrigatório da chave simétrica (AES-256).
	KeySize = 32

	nonceSize = 16
	tagSize   = 16
)

// ErrIntegrity indica falha de autenticação na decifragem (dado adulterado ou
// chave errada). Por contrato é um erro não-retryável: repetir a operação com
// as mesmas entradas nunca terá sucesso.
var ErrIntegrity = errors.New("cryptobox: falha de integridade na decifragem")

// Box cifra e decifra payloads opacos sob uma chave simétrica fixa.
type Box struct {
	aead cipher.AEAD
}

// New constrói o Box. Falha imediatamente se a chave não tiver 32 bytes.
func New(key string) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptobox: a chave deve ter exatamente %d bytes (tem %d)", KeySize, len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("cryptobox: criar cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: criar GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// EncryptBytes cifra plaintext com um nonce aleatório novo por chamada e
// devolve nonce || tag || ciphertext.
func (b *Box) EncryptBytes(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: gerar nonce: %w", err)
	}

	// Seal devolve ciphertext || tag; o formato empacotado quer a tag antes.
	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	packed := make([]byte, 0, nonceSize+tagSize+len(ct))
	packed = append(packed, nonce...)
	packed = append(packed, tag...)
	packed = append(packed, ct...)
	return packed, nil
}

// DecryptBytes é a operação inversa de EncryptBytes. Devolve ErrIntegrity se
// a tag de autenticação não verificar.
func (b *Box) DecryptBytes(packed []byte) ([]byte, error) {
	if len(packed) < nonceSize+tagSize {
		return nil, fmt.Errorf("cryptobox: payload empacotado curto demais (%d bytes)", len(packed))
	}
	nonce := packed[:nonceSize]
	tag := packed[nonceSize : nonceSize+tagSize]
	ct := packed[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// EncryptString cifra uma string e codifica o resultado em hex, para campos
// de texto (ex.: senha do certificado).
func (b *Box) EncryptString(plaintext string) (string, error) {
	packed, err := b.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(packed), nil
}

// DecryptString decodifica o hex e decifra.
func (b *Box) DecryptString(encoded string) (string, error) {
	packed, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("cryptobox: hex inválido: %w", err)
	}
	plaintext, err := b.DecryptBytes(packed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
