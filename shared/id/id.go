// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixThread      = "thr"
	PrefixMessage     = "msg"
	PrefixMemory      = "mem"
	PrefixAudit       = "aud"
	PrefixSummary     = "sum"
	PrefixJob         = "job"
	PrefixRecallEvent = "rev"
	PrefixCapsule     = "cap"
	PrefixBatch       = "batch"
	PrefixRequest     = "req"
	PrefixCost        = "cost"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewThread() string      { return New(PrefixThread) }
func NewMessage() string     { return New(PrefixMessage) }
func NewMemory() string      { return New(PrefixMemory) }
func NewAudit() string       { return New(PrefixAudit) }
func NewSummary() string     { return New(PrefixSummary) }
func NewJob() string         { return New(PrefixJob) }
func NewRecallEvent() string { return New(PrefixRecallEvent) }
func NewCapsule() string     { return New(PrefixCapsule) }
func NewBatch() string       { return NewWithLength(PrefixBatch, 12) }
func NewRequest() string     { return New(PrefixRequest) }
func NewCost() string        { return New(PrefixCost) }
