package csr

import (
	"encoding/asn1"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Attributes is the parsed form of a csr_attributes.yaml document: arbitrary
// OID-keyed maps that become, respectively, PKCS#9 custom attributes and
// extensionRequest entries on the CSR.
type Attributes struct {
	CustomAttributes  map[string]string `yaml:"custom_attributes"`
	ExtensionRequests map[string]string `yaml:"extension_requests"`
}

// LoadAttributes reads and parses the CSR attributes document at path. An
// empty path is not an error: it means no custom attributes or extension
// requests were configured.
func LoadAttributes(path string) (*Attributes, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("csr: reading attributes file %s: %w", path, err)
	}
	var attrs Attributes
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("csr: parsing attributes file %s: %w", path, err)
	}
	return &attrs, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	for _, part := range strings.Split(s, ".") {
		var component int
		if _, err := fmt.Sscanf(part, "%d", &component); err != nil {
			return nil, fmt.Errorf("invalid OID component %q in %q", part, s)
		}
		oid = append(oid, component)
	}
	if len(oid) == 0 {
		return nil, fmt.Errorf("empty OID")
	}
	return oid, nil
}
