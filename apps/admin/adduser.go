package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-identity/core/user"
)

// addUser registers an administrator. The account still has to confirm its email before logging in.
func (cli *commandLine) addUser(email, firstName, lastName, pwd string) error {
	na := user.NewAccount{
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		FirstName:       firstName,
		LastName:        lastName,
		Role:            user.RoleAdmin,
	}
	if err := na.Validate(cli.validate, cli.translator); err != nil {
		return err
	}

	sess, err := cli.usrSvc.Register(context.Background(), na)
	if err != nil {
		return err
	}
	fmt.Printf("administrator %s created (id=%s); a verification email has been sent\n", sess.Account.Email, sess.Account.ID)
	return nil
}
