// Package config loads the application profile: the local AE title, the
// remote nodes reachable by AE title, the service lists proposed during
// negotiation and the association timeouts.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/storescu/types"
)

// DefaultServiceList is proposed when neither the command line nor the node
// entry names a service list.
const DefaultServiceList = "Storage_SCU_Service_List"

// Defaults
const (
	DefaultLocalAETitle    = "MERGE_STORE_SCU"
	DefaultRemoteAETitle   = "MERGE_STORE_SCP"
	DefaultMaxPDULength    = 16384
	DefaultMaxOperations   = 4
	DefaultConnectTimeout  = 30 * time.Second
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultResponseTimeout = 10 * time.Second
)

// Profile is the application configuration.
type Profile struct {
	LocalAETitle string `yaml:"local_ae_title"`
	MaxPDULength uint32 `yaml:"max_pdu_length"`

	// MaxOperationsInvoked is the asynchronous window proposed to peers.
	// 1 disables pipelining; 0 asks for no limit.
	MaxOperationsInvoked uint16 `yaml:"max_operations_invoked"`

	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// IdleTimeout aborts a session that gets no response for this long.
	// Zero waits forever.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	Nodes        map[string]Node           `yaml:"nodes"`
	ServiceLists map[string][]ServiceEntry `yaml:"service_lists"`
}

// Node is a remote application entity.
type Node struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ServiceList string `yaml:"service_list"`
}

// ServiceEntry names a SOP class and the transfer syntaxes proposed for it.
// Both may be given by name or by UID.
type ServiceEntry struct {
	SOPClass         string   `yaml:"sop_class"`
	TransferSyntaxes []string `yaml:"transfer_syntaxes"`
}

// Service is a resolved ServiceEntry.
type Service struct {
	SOPClassUID      string
	TransferSyntaxes []string
}

// Default returns the built-in profile.
func Default() *Profile {
	return &Profile{
		LocalAETitle:         DefaultLocalAETitle,
		MaxPDULength:         DefaultMaxPDULength,
		MaxOperationsInvoked: DefaultMaxOperations,
		ConnectTimeout:       DefaultConnectTimeout,
		ReadTimeout:          DefaultReadTimeout,
		WriteTimeout:         DefaultWriteTimeout,
		ResponseTimeout:      DefaultResponseTimeout,
		Nodes:                map[string]Node{},
		ServiceLists:         map[string][]ServiceEntry{},
	}
}

// Load reads a YAML profile. Values missing from the file keep their
// defaults; nodes and service lists are added to the built-in ones.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML profile. See Load.
func Parse(data []byte) (*Profile, error) {
	p := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile for values that cannot work.
func (p *Profile) Validate() error {
	if p.LocalAETitle == "" || len(p.LocalAETitle) > 16 {
		return fmt.Errorf("local AE title %q must be 1-16 characters", p.LocalAETitle)
	}
	if p.MaxPDULength != 0 && p.MaxPDULength < 4096 {
		return fmt.Errorf("max PDU length %d is below 4096", p.MaxPDULength)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connect_timeout", p.ConnectTimeout},
		{"read_timeout", p.ReadTimeout},
		{"write_timeout", p.WriteTimeout},
		{"response_timeout", p.ResponseTimeout},
		{"idle_timeout", p.IdleTimeout},
	} {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	for ae, node := range p.Nodes {
		if len(ae) > 16 {
			return fmt.Errorf("node %q: AE title longer than 16 characters", ae)
		}
		if node.Port < 0 || node.Port > 65535 {
			return fmt.Errorf("node %q: invalid port %d", ae, node.Port)
		}
	}
	for name := range p.ServiceLists {
		if _, err := p.Services(name); err != nil {
			return err
		}
	}
	return nil
}

// Node returns the entry for a remote AE title.
func (p *Profile) Node(aeTitle string) (Node, bool) {
	node, ok := p.Nodes[aeTitle]
	return node, ok
}

// Services resolves a service list. The default list proposes every known
// storage class unless the profile redefines it.
func (p *Profile) Services(name string) ([]Service, error) {
	entries, ok := p.ServiceLists[name]
	if !ok {
		if name != DefaultServiceList {
			return nil, fmt.Errorf("unknown service list %q", name)
		}
		return defaultServices(), nil
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("service list %q is empty", name)
	}

	services := make([]Service, 0, len(entries))
	for _, entry := range entries {
		uid, ok := types.LookupSOPClass(entry.SOPClass)
		if !ok {
			return nil, fmt.Errorf("service list %q: unknown SOP class %q", name, entry.SOPClass)
		}

		svc := Service{SOPClassUID: uid}
		for _, ts := range entry.TransferSyntaxes {
			tsUID, ok := types.LookupTransferSyntax(ts)
			if !ok {
				return nil, fmt.Errorf("service list %q: unknown transfer syntax %q", name, ts)
			}
			svc.TransferSyntaxes = append(svc.TransferSyntaxes, tsUID)
		}
		if len(svc.TransferSyntaxes) == 0 {
			svc.TransferSyntaxes = types.DefaultTransferSyntaxes()
		}
		services = append(services, svc)
	}
	return services, nil
}

func defaultServices() []Service {
	services := make([]Service, 0, len(types.StorageClasses))
	for _, c := range types.StorageClasses {
		services = append(services, Service{
			SOPClassUID:      c.UID,
			TransferSyntaxes: types.DefaultTransferSyntaxes(),
		})
	}
	return services
}
