package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Phone string `json:"phone" validate:"omitempty,in_phone"`
	Role  string `json:"role" validate:"required,oneof=buyer seller supplier"`
}

func TestValidateStruct_Valid(t *testing.T) {
	req := signup{Email: "a@b.in", Name: "Asha", Phone: "+91 98765 43210", Role: "seller"}
	assert.Nil(t, ValidateStruct(&req))
}

func TestValidateStruct_Errors(t *testing.T) {
	req := signup{Email: "nope", Name: "A", Phone: "12345", Role: "admin"}

	verr := ValidateStruct(&req)
	require.NotNil(t, verr)
	require.Len(t, verr.Fields, 4)

	byField := map[string]FieldError{}
	for _, f := range verr.Fields {
		byField[f.Field] = f
	}

	assert.Equal(t, "email must be a valid email address", byField["email"].Message)
	assert.Equal(t, "name must be at least 2 characters", byField["name"].Message)
	assert.Equal(t, "phone must be a valid Indian mobile number", byField["phone"].Message)
	assert.Equal(t, "role must be one of: buyer seller supplier", byField["role"].Message)
	assert.Len(t, verr.Messages(), 4)
	assert.Contains(t, verr.Error(), "; ")
}

func TestValidateStruct_Required(t *testing.T) {
	verr := ValidateStruct(&signup{})
	require.NotNil(t, verr)

	assert.Equal(t, "email", verr.Fields[0].Field)
	assert.Equal(t, "required", verr.Fields[0].Tag)
	assert.Equal(t, "email is required", verr.Fields[0].Message)
}
