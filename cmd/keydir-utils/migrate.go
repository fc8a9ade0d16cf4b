/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"

	"github.com/CovenantSQL/keydir/utils/log"
)

func runMigrate(ctx context.Context) error {
	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	applied, err := st.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return nil
	}
	for _, m := range applied {
		fmt.Printf("Applied migration: %s\n", m)
	}
	return nil
}

func runDrop(ctx context.Context) error {
	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if !confirm(fmt.Sprintf("Drop every key directory table of %q?", st.Dialect().Name)) {
		return nil
	}
	if err = st.Drop(ctx); err != nil {
		return err
	}
	log.WithField("driver", st.Dialect().Name).Warning("key directory tables dropped")
	fmt.Println("Dropped")
	return nil
}

func runClean(ctx context.Context) error {
	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if !confirm("Drop all data and recreate the schema?") {
		return nil
	}
	applied, err := st.Clean(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Recreated schema with %d migrations\n", len(applied))
	return nil
}
