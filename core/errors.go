// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// error codes returned by the store
const (
	CodeNoResource   = "NO_RESOURCE"
	CodeNoItem       = "NO_ITEM"
	CodeBadItem      = "BAD_ITEM"
	CodeBadAttr      = "BAD_ATTRIBUTE"
	CodeBadRel       = "BAD_RELATIONSHIP"
	CodeNoType       = "NO_TYPE"
	CodeNoHandle     = "NO_HANDLE"
	CodeHandleExists = "HANDLE_EXISTS"
	CodeBadData      = "BAD_DATA"
	CodeNotAccepted  = "NOT_ACCEPTABLE"
)

// Error is a structured, user-facing error. Every validation or lookup
// failure in the store is an *Error; the REST layer translates Status
// to the HTTP status code and renders the remaining fields as JSON.
type Error struct {
	Code   string `json:"code"`
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code + ": " + e.Title
	}
	return e.Code + ": " + e.Detail
}

// AsError returns the structured error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// NoResourceError states that the resource id does not exist.
func NoResourceError(id uuid.UUID) *Error {
	return &Error{
		Code:   CodeNoResource,
		Status: http.StatusNotFound,
		Title:  "resource not found",
		Detail: fmt.Sprintf("resource %s not found", id),
	}
}

// NoItemError states that the field name is not declared on the type.
func NoItemError(key string) *Error {
	return &Error{
		Code:   CodeNoItem,
		Status: http.StatusBadRequest,
		Title:  "unknown body item",
		Detail: fmt.Sprintf("item %s is unknown", key),
	}
}

// BadItemError states that a body item is structurally invalid for the
// requested operation.
func BadItemError(key, msg string) *Error {
	return &Error{
		Code:   CodeBadItem,
		Status: http.StatusBadRequest,
		Title:  "a body item is invalid",
		Detail: fmt.Sprintf("item %s is invalid: %s", key, msg),
	}
}

// BadAttrError states that an attribute value fails its value-schema.
func BadAttrError(key, msg string) *Error {
	return &Error{
		Code:   CodeBadAttr,
		Status: http.StatusBadRequest,
		Title:  "an attribute is invalid",
		Detail: fmt.Sprintf("attribute %s is invalid: %s", key, msg),
	}
}

// BadRelError states that a relationship payload or target is invalid.
func BadRelError(format string, args ...interface{}) *Error {
	return &Error{
		Code:   CodeBadRel,
		Status: http.StatusBadRequest,
		Title:  "a relationship is invalid",
		Detail: fmt.Sprintf(format, args...),
	}
}

// NoTypeError states that the type identifier is not registered.
func NoTypeError(typ string) *Error {
	return &Error{
		Code:   CodeNoType,
		Status: http.StatusBadRequest,
		Title:  "unknown type",
		Detail: fmt.Sprintf("type %s is unknown", typ),
	}
}

// NoHandleError states that the handle is not bound.
func NoHandleError(handle string) *Error {
	return &Error{
		Code:   CodeNoHandle,
		Status: http.StatusNotFound,
		Title:  "unknown handle",
		Detail: fmt.Sprintf("handle %s is unknown", handle),
	}
}

// HandleExistsError states that the handle is already bound and
// overwriting was not requested.
func HandleExistsError(handle string) *Error {
	return &Error{
		Code:   CodeHandleExists,
		Status: http.StatusConflict,
		Title:  "handle exists",
		Detail: fmt.Sprintf("handle %s already exists", handle),
	}
}

// BadDataError states that the request envelope is malformed.
func BadDataError(msg string) *Error {
	return &Error{
		Code:   CodeBadData,
		Status: http.StatusBadRequest,
		Title:  "invalid data",
		Detail: msg,
	}
}

// NotAcceptableError states that an upload's content type is not in the
// field's allow-list.
func NotAcceptableError(contentType string) *Error {
	return &Error{
		Code:   CodeNotAccepted,
		Status: http.StatusNotAcceptable,
		Title:  "content type not acceptable",
		Detail: fmt.Sprintf("content type %s is not acceptable", contentType),
	}
}
