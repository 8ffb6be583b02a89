package httpapi

import (
	"fmt"
	"time"

	"github.com/addrbook/addrbook/internal/store"
)

// Date is a calendar day carried on the wire as "2006-01-02". Birthdays
// have no meaningful time component, and clients should not need to build
// RFC 3339 timestamps for them.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(raw []byte) error {
	s := string(raw)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a %q string", dateLayout)
	}
	t, err := time.Parse(dateLayout, s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("date must look like %q", dateLayout)
	}
	d.Time = t
	return nil
}

type signupForm struct {
	Username string `json:"username" binding:"required,min=3,max=150"`
	Email    string `json:"email" binding:"required,email"`
	// bcrypt only reads the first 72 bytes, so longer passwords would
	// silently truncate.
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type loginForm struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type requestConfirmForm struct {
	Email string `json:"email" binding:"required,email"`
}

type contactForm struct {
	FirstName    string `json:"firstname" binding:"required,max=150"`
	LastName     string `json:"lastname" binding:"required,max=150"`
	Email        string `json:"email" binding:"required,email"`
	Phone        string `json:"phone_number" binding:"required,max=50"`
	BirthDate    Date   `json:"date_of_birth"`
	Relationship string `json:"relationship" binding:"max=255"`
}

type listQuery struct {
	Skip  int `form:"skip,default=0" binding:"min=0"`
	Limit int `form:"limit,default=100" binding:"min=1,max=1000"`
}

type findQuery struct {
	FirstName string `form:"firstname"`
	LastName  string `form:"lastname"`
	Email     string `form:"email"`
}

// tokenPairView is the login/refresh response body.
type tokenPairView struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// accountView is the public projection of an account. The password hash and
// the stored refresh token never leave the process.
type accountView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

func viewAccount(a *store.Account) accountView {
	return accountView{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		Avatar:    a.Avatar,
		Confirmed: a.Confirmed,
		CreatedAt: a.CreatedAt,
	}
}

type contactView struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstname"`
	LastName     string    `json:"lastname"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone_number"`
	BirthDate    Date      `json:"date_of_birth"`
	Relationship string    `json:"relationship,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewContact(c *store.Contact) contactView {
	return contactView{
		ID:           c.ID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Email:        c.Email,
		Phone:        c.Phone,
		BirthDate:    Date{c.BirthDate},
		Relationship: c.Relationship,
		CreatedAt:    c.CreatedAt,
	}
}

// viewContacts always returns a JSON array, never null.
func viewContacts(list []store.Contact) []contactView {
	out := make([]contactView, 0, len(list))
	for i := range list {
		out = append(out, viewContact(&list[i]))
	}
	return out
}
