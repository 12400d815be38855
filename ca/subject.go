package ca

import (
	"crypto/x509/pkix"
	"fmt"
	"strings"

	ldapv3 "github.com/go-ldap/ldap/v3"
)

// ParseSubject turns a subject string into a pkix.Name. A value containing
// '=' is parsed as an RFC 4514 distinguished name; anything else becomes the
// common name.
func ParseSubject(subject string) (pkix.Name, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return pkix.Name{}, fmt.Errorf("%w: empty subject", ErrInvalidSubject)
	}

	if !strings.Contains(subject, "=") {
		return pkix.Name{CommonName: subject}, nil
	}

	dn, err := ldapv3.ParseDN(subject)
	if err != nil {
		return pkix.Name{}, fmt.Errorf("%w: distinguished name %q is not valid RFC 4514", ErrInvalidSubject, subject)
	}

	var name pkix.Name

	for _, rdn := range dn.RDNs {
		if len(rdn.Attributes) > 1 {
			return pkix.Name{}, fmt.Errorf("%w: distinguished name %q has multi-valued RDN attributes", ErrInvalidSubject, subject)
		}

		for _, attr := range rdn.Attributes {
			v := attr.Value

			switch strings.ToUpper(attr.Type) {
			case "CN":
				name.CommonName = v
			case "O":
				name.Organization = append(name.Organization, v)
			case "OU":
				name.OrganizationalUnit = append(name.OrganizationalUnit, v)
			case "C":
				name.Country = append(name.Country, v)
			case "ST":
				name.Province = append(name.Province, v)
			case "L":
				name.Locality = append(name.Locality, v)
			case "STREET":
				name.StreetAddress = append(name.StreetAddress, v)
			case "POSTALCODE":
				name.PostalCode = append(name.PostalCode, v)
			case "SERIALNUMBER":
				name.SerialNumber = v
			default:
				return pkix.Name{}, fmt.Errorf("%w: unsupported RDN attribute %q", ErrInvalidSubject, attr.Type)
			}
		}
	}

	return name, nil
}
