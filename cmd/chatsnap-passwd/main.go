// Command chatsnap-passwd prints a users file entry for a new account.
//
//	chatsnap-passwd [username] password >> config/users.yaml
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/maxischmaxi/chatsnap/internal/auth"
	"gopkg.in/yaml.v3"
)

func main() {
	username, password := "placeholder", ""
	switch len(os.Args) {
	case 2:
		password = os.Args[1]
	case 3:
		username, password = os.Args[1], os.Args[2]
	default:
		fmt.Fprintln(os.Stderr, "usage: chatsnap-passwd [username] password")
		os.Exit(2)
	}

	u, err := auth.NewUser(username, password, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create user: %v\n", err)
		os.Exit(1)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode([]auth.User{u}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode user: %v\n", err)
		os.Exit(1)
	}
	_ = enc.Close()
}
