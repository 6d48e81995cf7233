// Package nfse constrói o documento de submissão da NFS-e (layout ABRASF
// simplificado) e a sua pseudo-assinatura.
//
// A "assinatura" é um digest de conteúdo: SHA-256 do documento canonicalizado
// concatenado com o fingerprint do certificado. Ela amarra o documento à
// credencial, mas não oferece verificação por terceiros.
package nfse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/ucarion/c14n"
)

const (
	nsABRASF = "http://www.abrasf.org.br/nfse.xsd"

	// Código IBGE do município emissor (São Paulo).
	codigoMunicipio = "3550308"

	// FingerprintLen caracteres hex do fingerprint do certificado.
	FingerprintLen = 16
)

// Fingerprint deriva o identificador curto do certificado: SHA-256 dos bytes
// decifrados do .pfx, truncado a 16 caracteres hex.
func Fingerprint(pfx []byte) string {
	sum := sha256.Sum256(pfx)
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}

// Input campos da venda necessários para montar o documento.
type Input struct {
	SaleID        string
	Amount        decimal.Decimal
	Description   string
	ServiceCode   string
	BuyerName     string
	BuyerDocument string
	BuyerEmail    string // opcional
	Fingerprint   string
}

// Builder monta o XML de envio do lote RPS. Determinístico dado Now fixo:
// o relógio alimenta DataEmissao e o número sequencial do RPS.
type Builder struct {
	Now func() time.Time
}

// NewBuilder constrói o builder com o relógio de parede.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// Build gera o documento completo, já com o bloco Signature.
// Todos os campos de texto livre passam pelo escaping dos cinco caracteres
// reservados de markup (feito pelo serializador do etree).
func (b *Builder) Build(in Input) (string, error) {
	if in.Fingerprint == "" {
		return "", fmt.Errorf("nfse: fingerprint do certificado ausente")
	}

	now := b.Now().UTC()
	numero := rpsNumber(now)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envio := doc.CreateElement("EnviarLoteRpsEnvio")
	envio.CreateAttr("xmlns", nsABRASF)

	lote := envio.CreateElement("LoteRps")
	lote.CreateElement("NumeroLote").SetText("1")
	lote.CreateElement("Cnpj").SetText("00000000000000")
	lote.CreateElement("QuantidadeRps").SetText("1")

	rps := lote.CreateElement("ListaRps").CreateElement("Rps")
	inf := rps.CreateElement("InfDeclaracaoPrestacaoServico")
	inf.CreateAttr("Id", in.SaleID)

	infRps := inf.CreateElement("Rps")
	infRps.CreateElement("NumeroRps").SetText(numero)
	infRps.CreateElement("Serie").SetText("A")
	infRps.CreateElement("Tipo").SetText("1")

	inf.CreateElement("DataEmissao").SetText(now.Format(time.RFC3339))

	servico := inf.CreateElement("Servico")
	servico.CreateElement("ValorServicos").SetText(in.Amount.String())
	servico.CreateElement("ItemListaServico").SetText(in.ServiceCode)
	servico.CreateElement("Discriminacao").SetText(in.Description)
	servico.CreateElement("CodigoMunicipio").SetText(codigoMunicipio)

	tomador := inf.CreateElement("Tomador")
	tomador.CreateElement("IdentificacaoTomador").CreateElement("CpfCnpj").SetText(in.BuyerDocument)
	tomador.CreateElement("RazaoSocial").SetText(in.BuyerName)
	if in.BuyerEmail != "" {
		tomador.CreateElement("Contato").CreateElement("Email").SetText(in.BuyerEmail)
	}

	doc.Indent(2)
	body, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("nfse: serializar documento: %w", err)
	}

	// Digest sobre o corpo canonicalizado + fingerprint.
	signature := contentDigest([]byte(body), in.Fingerprint)

	sig := envio.CreateElement("Signature")
	sig.CreateElement("SignatureValue").SetText(signature)
	sig.CreateElement("KeyInfo").SetText(in.Fingerprint)

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("nfse: serializar documento assinado: %w", err)
	}
	return out, nil
}

// rpsNumber deriva o sequencial do RPS dos últimos 10 dígitos do epoch em ms.
func rpsNumber(now time.Time) string {
	ms := fmt.Sprintf("%d", now.UnixMilli())
	if len(ms) > 10 {
		ms = ms[len(ms)-10:]
	}
	return ms
}

// contentDigest calcula SHA-256(c14n(body) || fingerprint) em hex.
// Se a canonicalização falhar, o digest cai para os bytes originais.
func contentDigest(body []byte, fingerprint string) string {
	canonical, err := canonicalize(body)
	if err != nil {
		canonical = body
	}
	sum := sha256.Sum256(append(canonical, []byte(fingerprint)...))
	return hex.EncodeToString(sum[:])
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}
