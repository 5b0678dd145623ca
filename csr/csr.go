// Package csr builds a PKCS#10 certificate signing request from an agent's
// private key, certname, alt names, and optional custom attributes and
// extension requests.
package csr

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"net"
	"strings"
)

// Request carries everything needed to build a CSR besides the key itself.
type Request struct {
	Certname    string
	DNSAltNames string // raw "DNS:a,IP:1.2.3.4,b" config value; may be empty
	Attributes  *Attributes
}

// Build produces a PEM-encoded PKCS#10 CSR whose subject CN is req.Certname,
// signed by key.
func Build(req Request, key *rsa.PrivateKey) ([]byte, error) {
	if req.Certname == "" {
		return nil, fmt.Errorf("csr: certname must not be empty")
	}

	dnsNames, ipAddresses, err := parseAltNames(req.Certname, req.DNSAltNames)
	if err != nil {
		return nil, fmt.Errorf("csr: parsing dns_alt_names: %w", err)
	}

	template := &x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: req.Certname},
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}

	if req.Attributes != nil {
		for oidStr, value := range req.Attributes.ExtensionRequests {
			oid, err := parseOID(oidStr)
			if err != nil {
				return nil, fmt.Errorf("csr: extension_requests: %w", err)
			}
			template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
				Id:    oid,
				Value: []byte(value),
			})
		}

		for oidStr, value := range req.Attributes.CustomAttributes {
			oid, err := parseOID(oidStr)
			if err != nil {
				return nil, fmt.Errorf("csr: custom_attributes: %w", err)
			}
			template.Attributes = append(template.Attributes, pkix.AttributeTypeAndValueSET{
				Type:  oid,
				Value: [][]pkix.AttributeTypeAndValue{{{Type: oid, Value: value}}},
			})
		}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("csr: creating certificate request: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

// parseAltNames parses a comma-separated dns_alt_names configuration value.
// Each token is "DNS:<name>", "IP:<addr>", or a bare name defaulting to
// DNS. When any alt names are configured, certname is always added as a
// DNS alt name alongside them.
func parseAltNames(certname, raw string) (dnsNames []string, ips []net.IP, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, nil
	}

	certnameSeen := false
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		kind, value, hasPrefix := strings.Cut(token, ":")
		if !hasPrefix {
			kind, value = "DNS", token
		}

		switch strings.ToUpper(kind) {
		case "DNS":
			dnsNames = append(dnsNames, value)
			if value == certname {
				certnameSeen = true
			}
		case "IP":
			ip := net.ParseIP(value)
			if ip == nil {
				return nil, nil, fmt.Errorf("invalid IP alt name %q", value)
			}
			ips = append(ips, ip)
		default:
			return nil, nil, fmt.Errorf("unrecognized alt name token %q", token)
		}
	}

	if !certnameSeen {
		dnsNames = append([]string{certname}, dnsNames...)
	}
	return dnsNames, ips, nil
}
