package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLGuard_RejectsDisallowedScheme(t *testing.T) {
	g := NewURLGuard()
	err := g.Validate("ftp://example.com/file")
	assert.Error(t, err)
}

func TestURLGuard_RejectsBlockedHostLiteral(t *testing.T) {
	g := NewURLGuard()
	err := g.Validate("http://localhost:8080/admin")
	assert.Error(t, err)
}

func TestURLGuard_RejectsResolvedPrivateIP(t *testing.T) {
	g := NewURLGuard()
	g.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.5")}, nil
	}
	err := g.Validate("http://internal.example.com/secrets")
	assert.Error(t, err)
}

func TestURLGuard_RejectsPathTraversal(t *testing.T) {
	g := NewURLGuard()
	g.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	err := g.Validate("http://example.com/../../etc/passwd")
	assert.Error(t, err)
}

func TestURLGuard_RejectsEncodedTraversalInQuery(t *testing.T) {
	g := NewURLGuard()
	g.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	err := g.Validate("http://example.com/fetch?path=%2e%2e%2fsecrets")
	assert.Error(t, err)
}

func TestURLGuard_AllowsOrdinaryPublicURL(t *testing.T) {
	g := NewURLGuard()
	g.resolver = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	err := g.Validate("https://example.com/api/v1/widgets?id=42")
	assert.NoError(t, err)
}
