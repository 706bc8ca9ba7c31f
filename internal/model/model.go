/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package model holds the data types shared across the capture pipeline:
// the persisted credential attempt, the geolocation record attached to
// it, and the protocol enum both are keyed on.
package model

import "time"

// Protocol identifies which emulated service produced a CredentialAttempt.
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
	ProtocolFTP    Protocol = "ftp"
	ProtocolSMTP   Protocol = "smtp"
	ProtocolRDP    Protocol = "rdp"
	ProtocolSIP    Protocol = "sip"
	ProtocolMySQL  Protocol = "mysql"
)

// Valid reports whether p is one of the seven known protocol tags.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSSH, ProtocolTelnet, ProtocolFTP, ProtocolSMTP, ProtocolRDP, ProtocolSIP, ProtocolMySQL:
		return true
	default:
		return false
	}
}

// Location is a resolved geolocation for a client IP. The zero value
// (all fields empty) represents "unlocatable" and must never be
// persisted as a populated row: Country set implies Latitude/Longitude
// are meaningful.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Region    string  `json:"region"`
}

// Resolved reports whether loc carries a usable location.
func (l Location) Resolved() bool {
	return l.Country != ""
}

// CredentialAttempt is the persisted entity: one captured (username,
// password) pair plus its provenance. Validation tags mirror the length
// bounds from the data model (username/password are opaque byte-strings
// capped to keep a single malicious client from inflating storage).
type CredentialAttempt struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Protocol   Protocol  `json:"protocol" gorm:"column:protocol;index" validate:"required,oneof=ssh telnet ftp smtp rdp sip mysql"`
	Username   string    `json:"username" gorm:"column:username" validate:"max=256"`
	Password   string    `json:"password" gorm:"column:password" validate:"max=1024"`
	ClientIP   string    `json:"client_ip" gorm:"column:client_ip;index" validate:"required"`
	Timestamp  time.Time `json:"timestamp" gorm:"column:timestamp;index" validate:"required"`
	Latitude   *float64  `json:"latitude,omitempty" gorm:"column:latitude"`
	Longitude  *float64  `json:"longitude,omitempty" gorm:"column:longitude"`
	Country    string    `json:"country,omitempty" gorm:"column:country"`
	City       string    `json:"city,omitempty" gorm:"column:city"`
	Region     string    `json:"region,omitempty" gorm:"column:region"`
}

// TableName pins the gorm table name to the one named in the data model
// rather than gorm's pluralized default.
func (CredentialAttempt) TableName() string {
	return "login_attempts"
}

// WithLocation returns a copy of a with loc's fields applied. Called by
// the capture pipeline after a (possibly failed) geolocation lookup; a
// zero Location leaves the attempt with no geolocation fields set.
func (a CredentialAttempt) WithLocation(loc Location) CredentialAttempt {
	if !loc.Resolved() {
		return a
	}

	lat, lon := loc.Latitude, loc.Longitude
	a.Latitude = &lat
	a.Longitude = &lon
	a.Country = loc.Country
	a.City = loc.City
	a.Region = loc.Region
	return a
}
