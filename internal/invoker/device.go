package invoker

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/triage/model"
)

// DeviceRequest is one device-side effect.
type DeviceRequest struct {
	Service string         `json:"service"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// DeviceResponse is what the device reported back.
type DeviceResponse struct {
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// DeviceBridge performs device-side effects such as writing a calendar
// event.
type DeviceBridge interface {
	Perform(ctx context.Context, req DeviceRequest) (DeviceResponse, error)
}

// InstructionBridge hands each request back to the client as an instruction
// to execute on the device.
type InstructionBridge struct{}

// Perform returns the request under the "instruction" key.
func (InstructionBridge) Perform(ctx context.Context, req DeviceRequest) (DeviceResponse, error) {
	if err := ctx.Err(); err != nil {
		return DeviceResponse{}, err
	}
	return DeviceResponse{
		Data: map[string]any{"instruction": req},
	}, nil
}

// DeviceService exposes a fixed method table backed by a DeviceBridge.
// Methods marked NeedsUI are presented through the call's Presenter instead.
type DeviceService struct {
	name     string
	methods  []Method
	messages map[string]string
	bridge   DeviceBridge
}

// Name implements Service.
func (s *DeviceService) Name() string { return s.name }

// Methods implements Service.
func (s *DeviceService) Methods() []Method { return s.methods }

// Invoke implements Service.
func (s *DeviceService) Invoke(ctx context.Context, call Call) (model.ServiceResult, error) {
	params := make(map[string]any, len(call.Params))
	for k, v := range call.Params {
		if t, ok := v.AsTime(); ok {
			params[k] = t.Format(time.RFC3339)
			continue
		}
		params[k] = v.Interface()
	}

	msg := s.messages[call.Method.Name]
	if call.Method.NeedsUI {
		if err := call.Presenter.Present(ctx, call.Descriptor.String(), params); err != nil {
			return model.ServiceResult{}, fmt.Errorf("present %s: %w", call.Descriptor, err)
		}
		return model.ServiceResult{Message: msg}, nil
	}

	resp, err := s.bridge.Perform(ctx, DeviceRequest{
		Service: s.name,
		Method:  call.Method.Name,
		Params:  params,
	})
	if err != nil {
		return model.ServiceResult{}, err
	}
	if resp.Message != "" {
		msg = resp.Message
	}
	return model.ServiceResult{Message: msg, Data: resp.Data}, nil
}

type deviceMethod struct {
	Method
	message string
}

var deviceCatalog = []struct {
	service string
	methods []deviceMethod
}{
	{"CalendarService", []deviceMethod{{
		Method: Method{
			Name:     "addEvent",
			Required: []string{"eventDate"},
			Optional: []string{"eventTitle", "eventEndDate", "location", "notes"},
			Dates:    []string{"eventDate", "eventEndDate"},
		},
		message: "Added to your calendar",
	}}},
	{"RemindersService", []deviceMethod{{
		Method: Method{
			Name:     "addReminder",
			Required: []string{"reminderTitle"},
			Optional: []string{"dueDate", "notes"},
			Dates:    []string{"dueDate"},
		},
		message: "Reminder created",
	}}},
	{"ContactsService", []deviceMethod{{
		Method: Method{
			Name:     "saveContact",
			Required: []string{"name"},
			Optional: []string{"email", "phone", "company"},
		},
		message: "Contact saved",
	}}},
	{"WalletService", []deviceMethod{{
		Method:  Method{Name: "addPass", Required: []string{"passUrl"}},
		message: "Pass added to your wallet",
	}}},
	{"MessagesService", []deviceMethod{{
		Method: Method{
			Name:     "sendMessage",
			Required: []string{"recipient"},
			Optional: []string{"body"},
			NeedsUI:  true,
		},
		message: "Message ready to send",
	}}},
	{"ShareService", []deviceMethod{{
		Method: Method{
			Name:     "share",
			Required: []string{"url"},
			Optional: []string{"title"},
			NeedsUI:  true,
		},
		message: "Shared",
	}}},
	{"MapsService", []deviceMethod{{
		Method:  Method{Name: "openDirections", Required: []string{"location"}},
		message: "Opening directions",
	}}},
	{"PhoneService", []deviceMethod{{
		Method:  Method{Name: "call", Required: []string{"phone"}},
		message: "Calling",
	}}},
}

// DeviceServices returns the built-in device services, all backed by
// bridge.
func DeviceServices(bridge DeviceBridge) []*DeviceService {
	out := make([]*DeviceService, 0, len(deviceCatalog))
	for _, entry := range deviceCatalog {
		svc := &DeviceService{
			name:     entry.service,
			bridge:   bridge,
			messages: make(map[string]string, len(entry.methods)),
		}
		for _, m := range entry.methods {
			svc.methods = append(svc.methods, m.Method)
			svc.messages[m.Name] = m.message
		}
		out = append(out, svc)
	}
	return out
}
