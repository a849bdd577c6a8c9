// Package registry implements the gateway's method registry: it maps
// (service, method) pairs to descriptors carrying the parameter and response
// schemas needed to translate a JSON request into a binary call.
package registry

import (
	"strings"

	"github.com/jhump/protoreflect/desc"
	log "github.com/sirupsen/logrus"

	"github.com/brokerhq/httpgateway"
)

const emptyTypeName = "google.protobuf.Empty"

// Descriptor describes one remote method: its declared parameter schemas in
// positional order, its response schema, and its call pattern. Descriptors
// are immutable and shared read-only across requests.
type Descriptor struct {
	// Service is the fully-qualified service name.
	Service string
	// Method is the method name as declared.
	Method string
	// Parameters holds one schema per positional parameter. A method whose
	// input is google.protobuf.Empty takes zero parameters.
	Parameters []*desc.MessageDescriptor
	// Response is the response schema. Nil only for fire-and-forget methods
	// registered without one.
	Response *desc.MessageDescriptor
	// FireAndForget is true when the method expects no reply.
	FireAndForget bool
}

// ParameterCount returns the method's declared arity.
func (d *Descriptor) ParameterCount() int { return len(d.Parameters) }

// Registry holds the method descriptors known to the gateway. It is built
// once at startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	// keyed by lower-cased fully-qualified service name; each entry keeps
	// declaration order
	services map[string][]*Descriptor
	// simple name -> fully-qualified owner; "" marks a simple name claimed
	// by more than one service, which disables the alias
	aliases map[string]string
	files   []*desc.FileDescriptor
}

// New builds a registry from the services declared in the given protobuf
// file descriptors. Services are addressable by fully-qualified name and,
// when unambiguous, by simple name.
func New(files ...*desc.FileDescriptor) *Registry {
	r := &Registry{
		services: map[string][]*Descriptor{},
		aliases:  map[string]string{},
		files:    files,
	}
	for _, fd := range files {
		for _, sd := range fd.GetServices() {
			for _, md := range sd.GetMethods() {
				if md.IsClientStreaming() || md.IsServerStreaming() {
					log.Debugf("skipping streaming method %s/%s", sd.GetFullyQualifiedName(), md.GetName())
					continue
				}
				r.Register(descriptorForMethod(sd, md))
			}
		}
	}
	return r
}

func descriptorForMethod(sd *desc.ServiceDescriptor, md *desc.MethodDescriptor) *Descriptor {
	d := &Descriptor{
		Service:       sd.GetFullyQualifiedName(),
		Method:        md.GetName(),
		Response:      md.GetOutputType(),
		FireAndForget: md.GetOutputType().GetFullyQualifiedName() == emptyTypeName,
	}
	if in := md.GetInputType(); in.GetFullyQualifiedName() != emptyTypeName {
		d.Parameters = []*desc.MessageDescriptor{in}
	}
	return d
}

// Register adds a descriptor to the registry. It is exported so that callers
// can register methods not derived from proto service declarations, such as
// multi-parameter methods. A simple-name alias is kept only while exactly
// one service claims it; a second service with the same simple name disables
// the alias for both, so an ambiguous short name can never resolve to the
// wrong service.
func (r *Registry) Register(d *Descriptor) {
	fq := strings.ToLower(d.Service)
	r.services[fq] = append(r.services[fq], d)

	i := strings.LastIndex(fq, ".")
	if i < 0 {
		return
	}
	simple := fq[i+1:]
	owner, seen := r.aliases[simple]
	switch {
	case !seen:
		r.aliases[simple] = fq
	case owner != fq && owner != "":
		log.Warnf("simple service name %q is ambiguous (%s, %s); it must be addressed fully qualified", simple, owner, fq)
		r.aliases[simple] = ""
	}
}

// Lookup returns all descriptors on the named service whose method name
// matches case-insensitively. The returned slice may be empty when the
// service exists but declares no method by that name. It fails with
// ServiceNotFoundError when the service is entirely unknown, including when
// a simple name is ambiguous across packages.
func (r *Registry) Lookup(service, method string) ([]*Descriptor, error) {
	key := strings.ToLower(service)
	descs, ok := r.services[key]
	if !ok {
		// a fully-qualified name always wins over an equal alias
		if fq, aliased := r.aliases[key]; aliased && fq != "" {
			descs, ok = r.services[fq], true
		}
	}
	if !ok {
		return nil, &httpgateway.ServiceNotFoundError{Service: service}
	}
	var matches []*Descriptor
	for _, d := range descs {
		if strings.EqualFold(d.Method, method) {
			matches = append(matches, d)
		}
	}
	return matches, nil
}

// Files returns the file descriptors the registry was built from. The codec
// uses them as the shared type registry for well-known types.
func (r *Registry) Files() []*desc.FileDescriptor { return r.files }
