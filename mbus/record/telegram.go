// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package record

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ffutop/mbus-gateway/mbus"
)

// Fixed header offsets of an RSP_UD long frame with CI 0x72.
const (
	offsetControl   = 4
	offsetAddress   = 5
	offsetCI        = 6
	offsetSecondary = 7
	offsetAccess    = 15
	offsetStatus    = 16
	offsetSignature = 17
	offsetRecords   = 19
)

// Status byte bits.
const (
	StatusAppError       = 0x03
	StatusLowPower       = 0x04
	StatusPermanentError = 0x08
	StatusTemporaryError = 0x10
)

// Special DIF values.
const (
	difManufacturerSpecific = 0x0F
	difMoreRecordsFollow    = 0x1F
	difIdleFiller           = 0x2F
)

// Header is the fixed data header following the CI field.
type Header struct {
	Control   byte
	Address   byte
	CI        byte
	Secondary mbus.Address
	Access    byte
	Status    byte
	Signature uint16
}

// ParseHeader validates the fixed part of a variable data response. Status
// bits other than the application error are reported through the returned
// header only.
func ParseHeader(telegram []byte) (Header, error) {
	var h Header
	size, err := mbus.ParseHeader(telegram)
	if err != nil {
		return h, err
	}
	if len(telegram) < size || size < offsetRecords+2 {
		return h, &mbus.Error{Kind: mbus.KindTruncated, Detail: fmt.Sprintf("telegram has %d bytes", len(telegram))}
	}

	h.Control = telegram[offsetControl]
	h.Address = telegram[offsetAddress]
	h.CI = telegram[offsetCI]
	if h.Control != mbus.ControlRspUD {
		return h, &mbus.Error{Kind: mbus.KindUnexpectedControl, Detail: fmt.Sprintf("0x%02X", h.Control)}
	}
	if h.CI != mbus.CIRespVariable {
		return h, &mbus.Error{Kind: mbus.KindUnexpectedCI, Detail: fmt.Sprintf("0x%02X", h.CI)}
	}

	h.Secondary = mbus.AddressFromWire(telegram[offsetSecondary:])
	h.Access = telegram[offsetAccess]
	h.Status = telegram[offsetStatus]
	h.Signature = uint16(telegram[offsetSignature]) | uint16(telegram[offsetSignature+1])<<8

	if h.Status&StatusAppError != 0 {
		return h, &mbus.Error{Kind: mbus.KindApplicationError, Detail: fmt.Sprintf("status 0x%02X", h.Status)}
	}
	if h.Signature != 0 {
		return h, &mbus.Error{Kind: mbus.KindEncryptionSuspected, Detail: fmt.Sprintf("signature 0x%04X", h.Signature)}
	}
	return h, nil
}

// DecodedValue is the outcome of a telegram scan. Only Matches == 1 carries a
// usable Value.
type DecodedValue struct {
	Value   float64
	Matches int
}

// Decoder scans telegrams for the record described by Descriptor.
type Decoder struct {
	Descriptor Descriptor
	// Name is used in log lines; Logger defaults to slog.Default().
	Name   string
	Logger *slog.Logger
}

// Decode scans telegram with the default logger.
func Decode(telegram []byte, d Descriptor) (DecodedValue, error) {
	return (&Decoder{Descriptor: d}).Decode(telegram)
}

// Decode validates the fixed header and walks every data record, counting
// those matching the descriptor. Zero and multiple matches are errors of
// their own kind.
func (dec *Decoder) Decode(telegram []byte) (DecodedValue, error) {
	log := dec.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("sensor", dec.Name)

	var res DecodedValue
	h, err := ParseHeader(telegram)
	if err != nil {
		return res, err
	}
	log.Debug("Fixed header parsed", "secondary_address", h.Secondary.String(), "access", h.Access, "status", h.Status)
	if h.Status&StatusTemporaryError != 0 {
		log.Warn("Temporary error status bit set")
	}
	if h.Status&StatusPermanentError != 0 {
		log.Warn("Permanent error status bit set. Consider replacing meter.")
	}
	if h.Status&StatusLowPower != 0 {
		log.Warn("Low power status bit set. Consider replacing meter.")
	}

	// Records end where the checksum begins.
	end := int(telegram[1]) + 4
	payload := telegram[:end]

	var matched *Record
	pos := offsetRecords
	for pos < end {
		dif := payload[pos]
		if dif == difManufacturerSpecific || dif == difMoreRecordsFollow {
			break
		}
		if dif == difIdleFiller {
			pos++
			continue
		}

		rec, n, err := ParseRecord(payload[pos:])
		if err != nil {
			log.Error("Failed to parse data record", "offset", pos, "err", err)
			return res, err
		}
		log.Debug("Data record",
			"function", rec.Function.String(),
			"datatype", rec.Datatype.String(),
			"storage", rec.Storage,
			"tariff", rec.Tariff,
			"subunit", rec.Subunit,
			"vif", fmt.Sprintf("0x%X", rec.VIF),
			"value", rec.Value,
		)
		if !rec.Decoded {
			log.Warn("Datatype decoding not supported, record skipped", "datatype", rec.Datatype.String())
		}
		if rec.Descriptor == dec.Descriptor {
			log.Debug("Match", "offset", pos)
			res.Matches++
			res.Value = rec.Value
			matched = &rec
		}
		pos += n
	}

	if pos < end {
		if payload[pos] == difMoreRecordsFollow {
			log.Warn("Multitelegram readout not supported, some data may be unavailable.")
		}
		if pos+1 < end {
			log.Debug("Manufacturer-specific data", "data", hex.EncodeToString(payload[pos+1:end]))
		}
	}

	switch {
	case res.Matches == 0:
		return res, &mbus.Error{Kind: mbus.KindNoMatch, Detail: dec.Descriptor.String()}
	case res.Matches > 1:
		return res, &mbus.Error{Kind: mbus.KindAmbiguousMatch, Detail: fmt.Sprintf("%d records match %s", res.Matches, dec.Descriptor)}
	case !matched.Decoded:
		return res, &mbus.Error{Kind: mbus.KindUnsupportedDatatype, Detail: matched.Datatype.String()}
	}
	return res, nil
}
