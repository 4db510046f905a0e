package describe

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/maruel/docmap/internal/mapper"
	"github.com/maruel/docmap/internal/typerule"
	"github.com/maruel/docmap/internal/types"
)

func TestJSONSchema(t *testing.T) {
	reg := mapper.NewRegistry()
	reg.MustDefine("Address", func(s *mapper.Spec) {
		s.Field("street").Of(types.ShortString)
		s.EmbeddedInCollection("users").AsArray("addresses")
	})
	user := reg.MustDefine("User", func(s *mapper.Spec) {
		s.Field("name").Of(typerule.Of(types.ShortString).Matches(`^[A-Z]`))
		s.Field("email").Of(types.Email)
		s.Field("age").Of(typerule.Number)
		s.Field("created").GeneratedBy(typerule.Time)
		s.Field("addresses").EmbeddedArrayOf("Address").With("1:3")
		s.Field("posts").LinkedArrayOf("Post")
		s.InCollection("users")
		s.TTLIndex("created", 1, time.Hour)
	})
	s, err := JSONSchema(user)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	if got := strings.Join(names, ","); got != "_id,name,email,age,created,addresses" {
		t.Errorf("properties = %s", got)
	}
	if got := strings.Join(s.Required, ","); got != "name,email,age" {
		t.Errorf("required = %s", got)
	}
	name, _ := s.Properties.Get("name")
	if name.Type != "string" || name.MaxLength == nil || *name.MaxLength != 255 || name.Pattern != "^[A-Z]" {
		t.Errorf("name = %+v", name)
	}
	email, _ := s.Properties.Get("email")
	if email.Pattern == "" {
		t.Errorf("email = %+v", email)
	}
	created, _ := s.Properties.Get("created")
	if created.Format != "date-time" || !created.ReadOnly {
		t.Errorf("created = %+v", created)
	}
	addrs, _ := s.Properties.Get("addresses")
	if addrs.Type != "array" || addrs.Items.Ref != "#/$defs/Address" || *addrs.MinItems != 1 || *addrs.MaxItems != 3 {
		t.Errorf("addresses = %+v", addrs)
	}
	if _, ok := s.Definitions["Address"]; !ok {
		t.Errorf("$defs = %v", s.Definitions)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"x-collection":"users"`, `"ttl_seconds":3600`, `"$defs"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("missing %s in %s", want, data)
		}
	}
}

func TestJSONSchemaUndefined(t *testing.T) {
	reg := mapper.NewRegistry()
	typ := reg.MustDefine("User", func(s *mapper.Spec) {
		s.Field("addresses").EmbeddedArrayOf("Address")
	})
	if _, err := JSONSchema(typ); err == nil {
		t.Error("expected error for undefined schema")
	}
}
