package decode

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/endorses/tlsniff/internal/pkg/constants"
	"github.com/endorses/tlsniff/internal/pkg/sniffer"
)

// KeySpec describes one server key to register.
type KeySpec struct {
	// Name selects the key by SNI host name. Empty registers by address.
	Name     string `yaml:"name,omitempty"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	File     string `yaml:"file"`
	Type     string `yaml:"type,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type keyManifest struct {
	Keys []KeySpec `yaml:"keys"`
}

// ParseKeySpec parses [name@]address[:port]=file[,password]. A missing
// port is 443 and an empty or "*" address matches any server address.
func ParseKeySpec(s string) (KeySpec, error) {
	target, file, ok := strings.Cut(s, "=")
	if !ok || file == "" {
		return KeySpec{}, fmt.Errorf("key %q: expected address:port=file", s)
	}

	var spec KeySpec
	if name, rest, ok := strings.Cut(target, "@"); ok {
		if name == "" {
			return KeySpec{}, fmt.Errorf("key %q: empty server name", s)
		}
		spec.Name, target = name, rest
	}

	spec.Address, spec.Port = target, constants.DefaultServerPort
	if host, port, err := net.SplitHostPort(target); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil {
			return KeySpec{}, fmt.Errorf("key %q: invalid port %q", s, port)
		}
		spec.Address, spec.Port = host, p
	}

	spec.File, spec.Password, _ = strings.Cut(file, ",")
	return spec, nil
}

// LoadKeyManifest reads a YAML file with a top-level keys list. Relative
// key file paths are resolved against the manifest's directory.
func LoadKeyManifest(path string) ([]KeySpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key manifest: %w", err)
	}

	var m keyManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid key manifest %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range m.Keys {
		k := &m.Keys[i]
		if k.File == "" {
			return nil, fmt.Errorf("key manifest %s: entry %d has no file", path, i)
		}
		if k.Port == 0 {
			k.Port = constants.DefaultServerPort
		}
		if !filepath.IsAbs(k.File) {
			k.File = filepath.Join(dir, k.File)
		}
	}
	return m.Keys, nil
}

// KeyType returns the encoding named by Type, or guessed from the file
// extension when Type is empty.
func (k KeySpec) KeyType() (sniffer.KeyType, error) {
	t := strings.ToLower(k.Type)
	if t == "" {
		t = "pem"
		if strings.EqualFold(filepath.Ext(k.File), ".der") {
			t = "der"
		}
	}
	switch t {
	case "pem":
		return sniffer.KeyTypePEM, nil
	case "der":
		return sniffer.KeyTypeDER, nil
	}
	return 0, fmt.Errorf("unknown key type %q", k.Type)
}

// Register loads the key file into s.
func (k KeySpec) Register(s *sniffer.Sniffer) error {
	typ, err := k.KeyType()
	if err != nil {
		return err
	}
	material, err := os.ReadFile(k.File)
	if err != nil {
		return fmt.Errorf("%w: %v", sniffer.ErrKeyLoadFailure, err)
	}
	if k.Name != "" {
		return s.RegisterNamedKey(k.Name, k.Address, k.Port, material, typ, k.Password)
	}
	return s.RegisterKey(k.Address, k.Port, material, typ, k.Password)
}

func (k KeySpec) String() string {
	target := net.JoinHostPort(k.Address, strconv.Itoa(k.Port))
	if k.Name != "" {
		target = k.Name + "@" + target
	}
	return target + "=" + k.File
}
