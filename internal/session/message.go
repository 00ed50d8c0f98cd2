package session

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Inbound message types.
const (
	msgTextChanged          = "text_changed"
	msgCategoryChanged      = "category_changed"
	msgSortFieldChanged     = "sort_field_changed"
	msgSortDirectionToggled = "sort_direction_toggled"
	msgPageAdvanced         = "page_advanced"
	msgBarcodeSubmitted     = "barcode_submitted"
	msgProductOpened        = "product_opened"
	msgBackToList           = "back_to_list"
	msgFacetSearch          = "facet_search"
	msgScanStart            = "scan_start"
	msgScanCapture          = "scan_capture"
	msgScanCancel           = "scan_cancel"
	msgCameraGranted        = "camera_granted"
	msgCameraDenied         = "camera_denied"
	msgCameraFrame          = "camera_frame"
)

// Outbound message types.
const (
	msgState         = "state"
	msgCapture       = "capture"
	msgFacets        = "facets"
	msgCameraRequest = "camera_request"
	msgCameraStop    = "camera_stop"
	msgError         = "error"
)

// inbound is a decoded {type, data} message. Only string fields are used by
// any message, so data is flattened into a map.
type inbound struct {
	Type string
	Data map[string]string
}

func (m inbound) get(key string) string {
	return m.Data[key]
}

func decodeInbound(raw []byte) (inbound, error) {
	var m inbound
	d := jx.DecodeBytes(raw)
	err := d.ObjBytes(func(d *jx.Decoder, k []byte) error {
		switch string(k) {
		case "type":
			v, err := d.Str()
			m.Type = v
			return err
		case "data":
			if d.Next() == jx.Null {
				return d.Null()
			}
			m.Data = make(map[string]string)
			return d.ObjBytes(func(d *jx.Decoder, k []byte) error {
				if d.Next() != jx.String {
					return d.Skip()
				}
				v, err := d.Str()
				if err != nil {
					return err
				}
				m.Data[string(k)] = v
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return inbound{}, errors.Wrap(err, "decode message")
	}
	if m.Type == "" {
		return inbound{}, errors.New("message type missing")
	}
	return m, nil
}

// encodeMessage builds an outbound {type, data} message. data may be nil.
func encodeMessage(typ string, data func(e *jx.Encoder)) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(typ)
	if data != nil {
		e.FieldStart("data")
		data(&e)
	}
	e.ObjEnd()
	return e.Bytes()
}
