package device

import (
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Registry tracks one Device per object key (address or path). Each device
// carries its own watcher, so different remote objects are processed fully
// independently and concurrently.
type Registry struct {
	devices *hashmap.Map[string, *Device]
	logger  *logrus.Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: hashmap.New[string, *Device](),
		logger:  logger,
	}
}

// Get returns the device registered under key.
func (r *Registry) Get(key string) (*Device, bool) {
	return r.devices.Get(key)
}

// GetOrCreate returns the registered device or creates one via create.
// When two callers race, the loser's device is closed and the winner's is
// returned.
func (r *Registry) GetOrCreate(key string, create func() (*Device, error)) (*Device, error) {
	if dev, ok := r.devices.Get(key); ok {
		return dev, nil
	}

	dev, err := create()
	if err != nil {
		return nil, err
	}

	actual, loaded := r.devices.GetOrInsert(key, dev)
	if loaded && actual != dev {
		if cerr := dev.Close(); cerr != nil {
			r.logger.WithError(cerr).WithField("key", key).Warn("Failed to close duplicate device")
		}
		return actual, nil
	}

	r.logger.WithField("key", key).Debug("Registered device watcher")
	return dev, nil
}

// Remove closes and forgets the device registered under key.
func (r *Registry) Remove(key string) {
	dev, ok := r.devices.Get(key)
	if !ok {
		return
	}
	r.devices.Del(key)
	if err := dev.Close(); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Failed to close device")
	}
}

// Range calls fn for every registered device until fn returns false.
func (r *Registry) Range(fn func(key string, dev *Device) bool) {
	r.devices.Range(fn)
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return r.devices.Len()
}

// Close closes every registered device and empties the registry.
func (r *Registry) Close() {
	r.devices.Range(func(key string, dev *Device) bool {
		if err := dev.Close(); err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("Failed to close device")
		}
		r.devices.Del(key)
		return true
	})
}
