// Package mocks holds gomock doubles for the convdispatch interfaces.
package mocks

//go:generate mockgen -destination=store_mock.go -package=mocks github.com/velmie/convdispatch EventStore
//go:generate mockgen -destination=backend_mock.go -package=mocks github.com/velmie/convdispatch Backend,Enqueuer
