package adapter

import (
	"fmt"
	"sort"
	"strings"
)

// Vendors this service holds an outbound connection for. Every other
// known vendor pushes to us.
var streamingVendors = map[string]bool{
	VendorStreamHTTP: true,
	VendorWebSocket:  true,
	VendorCloudRelay: false,
	VendorADMS:       false,
}

// IsStreamingVendor is a static classification, independent of which
// adapters are registered.
func IsStreamingVendor(vendor string) bool {
	return streamingVendors[strings.ToLower(strings.TrimSpace(vendor))]
}

// KnownVendor reports whether vendor is one of the supported families.
func KnownVendor(vendor string) bool {
	_, ok := streamingVendors[strings.ToLower(strings.TrimSpace(vendor))]
	return ok
}

type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry binds every vendor family to its adapter.
func NewRegistry(opts Options) *Registry {
	return NewRegistryWith(
		NewStreamHTTP(opts),
		NewWebSocket(opts),
		NewCloudRelay(opts),
		NewADMS(opts),
	)
}

// NewRegistryWith builds a registry from explicit adapters.
func NewRegistryWith(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Vendor())] = a
	}
	return r
}

func (r *Registry) Get(vendor string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(vendor))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
	}
	return a, nil
}

func (r *Registry) Vendors() []string {
	vendors := make([]string, 0, len(r.adapters))
	for v := range r.adapters {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	return vendors
}

func (r *Registry) CloudRelay() (*CloudRelay, error) {
	a, err := r.Get(VendorCloudRelay)
	if err != nil {
		return nil, err
	}
	cr, ok := a.(*CloudRelay)
	if !ok {
		return nil, fmt.Errorf("%w: %s adapter has unexpected type %T", ErrUnknownVendor, VendorCloudRelay, a)
	}
	return cr, nil
}

func (r *Registry) PushParser(vendor string) (PushParser, error) {
	a, err := r.Get(vendor)
	if err != nil {
		return nil, err
	}
	p, ok := a.(PushParser)
	if !ok {
		return nil, fmt.Errorf("%w: %s push parsing", ErrUnsupported, vendor)
	}
	return p, nil
}

func (r *Registry) Fetcher(vendor string) (Fetcher, error) {
	a, err := r.Get(vendor)
	if err != nil {
		return nil, err
	}
	f, ok := a.(Fetcher)
	if !ok {
		return nil, fmt.Errorf("%w: %s record fetching", ErrUnsupported, vendor)
	}
	return f, nil
}
