package hap

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// uuidNamespace seeds name-based accessory UUIDs.
var uuidNamespace = uuid.MustParse("6f2f8c3e-2d5b-4f3a-9a51-3c1e0d7b9a42")

// GenerateUUID derives a stable accessory UUID from arbitrary data,
// typically the source device id.
func GenerateUUID(data string) string {
	return uuid.NewSHA1(uuidNamespace, []byte(data)).String()
}

// Accessory is a protocol-visible device composed of services.
type Accessory struct {
	ID       string
	UUID     string
	Name     string
	Category Category

	nextIID atomic.Uint64

	mu        sync.RWMutex
	services  []*Service
	listeners []func(Change)
}

// NewAccessory creates an accessory with an AccessoryInformation service.
//
// Parameters:
//   - id: source identifier, used to derive the UUID
//   - name: display name
//   - category: accessory category
func NewAccessory(id, name string, category Category) *Accessory {
	a := &Accessory{
		ID:       id,
		UUID:     GenerateUUID(id),
		Name:     name,
		Category: category,
	}
	info, _ := NewService(ServiceAccessoryInformation, "", "")
	info.GetCharacteristic(CharName).UpdateValue(name)
	a.AddService(info)
	return a
}

func (a *Accessory) allocateIID() uint64 {
	return a.nextIID.Add(1)
}

// Info returns the AccessoryInformation service.
func (a *Accessory) Info() *Service {
	return a.Service(ServiceAccessoryInformation)
}

// AddService attaches s. If a service with the same identity is already
// attached, that service is returned instead and s is discarded.
func (a *Accessory) AddService(s *Service) *Service {
	a.mu.Lock()
	for _, existing := range a.services {
		if existing.Identity() == s.Identity() {
			a.mu.Unlock()
			return existing
		}
	}
	a.services = append(a.services, s)
	a.mu.Unlock()

	s.attach(a)
	return s
}

// Service returns the first service of type t, or nil.
func (a *Accessory) Service(t ServiceType) *Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.services {
		if s.Type == t {
			return s
		}
	}
	return nil
}

// ServiceByIdentity returns the service with the given type and subtype, or nil.
func (a *Accessory) ServiceByIdentity(t ServiceType, subtype string) *Service {
	id := ServiceIdentity(t, subtype)
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.services {
		if s.Identity() == id {
			return s
		}
	}
	return nil
}

// Services returns the attached services in attachment order.
func (a *Accessory) Services() []*Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Service, len(a.services))
	copy(out, a.services)
	return out
}

// CharacteristicByIID finds a characteristic by instance id.
func (a *Accessory) CharacteristicByIID(iid uint64) (*Characteristic, bool) {
	for _, s := range a.Services() {
		for _, c := range s.Characteristics() {
			if c.IID() == iid {
				return c, true
			}
		}
	}
	return nil, false
}

// OnChange registers fn for value changes on any characteristic of the accessory.
func (a *Accessory) OnChange(fn func(Change)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Accessory) notify(change Change) {
	a.mu.RLock()
	listeners := make([]func(Change), len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}

type characteristicJSON struct {
	IID         uint64   `json:"iid"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Perms       []Perm   `json:"perms"`
	Format      Format   `json:"format"`
	Value       any      `json:"value,omitempty"`
	Unit        Unit     `json:"unit,omitempty"`
	MinValue    *float64 `json:"minValue,omitempty"`
	MaxValue    *float64 `json:"maxValue,omitempty"`
	MinStep     *float64 `json:"minStep,omitempty"`
	ValidValues []int    `json:"valid-values,omitempty"`
}

type serviceJSON struct {
	IID             uint64               `json:"iid"`
	Type            string               `json:"type"`
	Name            string               `json:"name"`
	Subtype         string               `json:"subtype,omitempty"`
	Characteristics []characteristicJSON `json:"characteristics"`
}

type accessoryJSON struct {
	ID       string        `json:"id"`
	UUID     string        `json:"uuid"`
	Name     string        `json:"name"`
	Category string        `json:"category"`
	Services []serviceJSON `json:"services"`
}

// MarshalJSON encodes the accessory graph with protocol field names.
func (a *Accessory) MarshalJSON() ([]byte, error) {
	out := accessoryJSON{
		ID:       a.ID,
		UUID:     a.UUID,
		Name:     a.Name,
		Category: a.Category.String(),
		Services: []serviceJSON{},
	}
	for _, s := range a.Services() {
		sj := serviceJSON{
			IID:             s.IID(),
			Type:            string(s.Type),
			Name:            s.Type.String(),
			Subtype:         s.Subtype,
			Characteristics: []characteristicJSON{},
		}
		for _, c := range s.Characteristics() {
			cj := characteristicJSON{
				IID:         c.IID(),
				Type:        string(c.Type),
				Name:        c.Type.String(),
				Perms:       c.Perms,
				Format:      c.Format,
				Unit:        c.Unit,
				MinValue:    c.MinValue,
				MaxValue:    c.MaxValue,
				MinStep:     c.MinStep,
				ValidValues: c.ValidValues,
			}
			if c.HasPerm(PermRead) {
				cj.Value = c.Value()
			}
			sj.Characteristics = append(sj.Characteristics, cj)
		}
		out.Services = append(out.Services, sj)
	}
	return json.Marshal(out)
}
