package hap

import (
	"fmt"
	"sync"
)

// Service groups the characteristics of one function of an accessory.
type Service struct {
	Type    ServiceType
	Name    string
	Subtype string

	mu              sync.RWMutex
	iid             uint64
	accessory       *Accessory
	characteristics []*Characteristic
}

// NewService creates a service with its required characteristics.
// A non-empty name is written to the Name characteristic.
//
// Parameters:
//   - t: catalogued service type
//   - name: display name (may be empty)
//   - subtype: distinguishes multiple services of the same type on one accessory
//
// Returns:
//   - *Service: the new service
//   - error: ErrUnknownType for uncatalogued service types
func NewService(t ServiceType, name, subtype string) (*Service, error) {
	def, ok := serviceDefs[t]
	if !ok {
		return nil, fmt.Errorf("%w: service %q", ErrUnknownType, string(t))
	}
	s := &Service{Type: t, Name: name, Subtype: subtype}
	for _, ct := range def.Required {
		if _, err := s.addCharacteristic(ct); err != nil {
			return nil, err
		}
	}
	if name != "" {
		s.GetCharacteristic(CharName).UpdateValue(name)
	}
	return s, nil
}

// Identity returns the key that distinguishes this service on an accessory.
func (s *Service) Identity() string {
	return ServiceIdentity(s.Type, s.Subtype)
}

// ServiceIdentity builds the identity key for a type and subtype.
func ServiceIdentity(t ServiceType, subtype string) string {
	if subtype == "" {
		return string(t)
	}
	return string(t) + "/" + subtype
}

// IID returns the instance id within the owning accessory (0 if detached).
func (s *Service) IID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iid
}

// Accessory returns the owning accessory, or nil.
func (s *Service) Accessory() *Accessory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessory
}

// Characteristics returns the characteristics in creation order.
func (s *Service) Characteristics() []*Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Characteristic, len(s.characteristics))
	copy(out, s.characteristics)
	return out
}

// Characteristic returns an existing characteristic of type t, or nil.
func (s *Service) Characteristic(t CharacteristicType) *Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.characteristics {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// GetCharacteristic returns the characteristic of type t, adding it from
// the catalogue when absent. It returns nil for uncatalogued types.
func (s *Service) GetCharacteristic(t CharacteristicType) *Characteristic {
	if c := s.Characteristic(t); c != nil {
		return c
	}
	c, err := s.addCharacteristic(t)
	if err != nil {
		return nil
	}
	return c
}

// SetCharacteristic updates the value of characteristic t, adding it if needed.
func (s *Service) SetCharacteristic(t CharacteristicType, v any) {
	if c := s.GetCharacteristic(t); c != nil {
		c.UpdateValue(v)
	}
}

func (s *Service) addCharacteristic(t CharacteristicType) (*Characteristic, error) {
	c, err := NewCharacteristic(t)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, existing := range s.characteristics {
		if existing.Type == t {
			s.mu.Unlock()
			return existing, nil
		}
	}
	c.service = s
	if s.accessory != nil {
		c.iid = s.accessory.allocateIID()
	}
	s.characteristics = append(s.characteristics, c)
	s.mu.Unlock()
	return c, nil
}

// attach binds s to a and allocates instance ids.
func (s *Service) attach(a *Accessory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessory = a
	s.iid = a.allocateIID()
	for _, c := range s.characteristics {
		c.mu.Lock()
		c.iid = a.allocateIID()
		c.mu.Unlock()
	}
}

func (s *Service) notify(change Change) {
	if a := s.Accessory(); a != nil {
		a.notify(change)
	}
}
